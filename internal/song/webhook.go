package song

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

const maxTaskIDLength = 128

// webhookPayload accepts both the camelCase and snake_case spellings the
// provider has used. Unknown fields are ignored.
type webhookPayload struct {
	TaskID       string `json:"taskId"`
	TaskIDSnake  string `json:"task_id"`
	Status       string `json:"status"`
	AudioURL     string `json:"audio_url"`
	AudioURLAlt  string `json:"audioUrl"`
	VideoURL     string `json:"video_url"`
	ImageURL     string `json:"image_url"`
	Title        string `json:"title"`
	ErrorMessage string `json:"error_message"`
}

// ParseWebhook validates a provider callback and fails closed: a payload that
// is not JSON, lacks a task id or status, or claims completion without a
// usable audio url is rejected.
func ParseWebhook(body []byte) (Update, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	taskID := firstNonEmpty(p.TaskID, p.TaskIDSnake)
	if taskID == "" || len(taskID) > maxTaskIDLength {
		return Update{}, fmt.Errorf("%w: missing or oversized task id", ErrInvalidPayload)
	}
	status, ok := NormalizeStatus(p.Status)
	if !ok {
		return Update{}, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, p.Status)
	}

	u := Update{
		TaskID:       taskID,
		Status:       status,
		AudioURL:     firstNonEmpty(p.AudioURL, p.AudioURLAlt),
		VideoURL:     p.VideoURL,
		ImageURL:     p.ImageURL,
		Title:        p.Title,
		ErrorMessage: p.ErrorMessage,
	}
	if status == engine.JobComplete && !validURL(u.AudioURL) {
		return Update{}, fmt.Errorf("%w: completion needs an absolute audio_url", ErrInvalidPayload)
	}
	for _, optional := range []string{u.VideoURL, u.ImageURL} {
		if optional != "" && !validURL(optional) {
			return Update{}, fmt.Errorf("%w: malformed media url %q", ErrInvalidPayload, optional)
		}
	}
	return u, nil
}

// HandleWebhook applies a validated callback. Callbacks for unknown or
// superseded tasks are acknowledged but not applied, so the provider does
// not keep retrying them.
func (t *Tracker) HandleWebhook(ctx context.Context, body []byte) (applied bool, err error) {
	u, err := ParseWebhook(body)
	if err != nil {
		t.log.Warn("rejected song webhook", zap.Error(err))
		return false, err
	}
	t.log.Info("song webhook received", zap.String("task_id", u.TaskID), zap.String("status", string(u.Status)))

	b, err := t.store.FindByTaskID(ctx, u.TaskID)
	if errors.Is(err, store.ErrNotFound) {
		t.log.Warn("song webhook for unknown task", zap.String("task_id", u.TaskID))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = t.Apply(ctx, b.ID, u)
	if errors.Is(err, ErrTaskMismatch) {
		t.log.Warn("song webhook for superseded task", zap.String("battle_id", b.ID), zap.String("task_id", u.TaskID))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
