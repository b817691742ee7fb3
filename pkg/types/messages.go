package types

// Client -> Server (websocket, JSON text frames)
// sync:
//   ask for a fresh battle:sync reply
//
// subscribe:
//   battleId: string // move this connection to another battle
//
// ping: {}

// Server -> Client
// battle:sync:
//   battle: Snapshot
//   viewerCount: number
//
// battle:ready | battle:live_started | battle:live_ended:
//   battleId, at, battle
//
// battle:deleted:
//   battleId, at // the socket closes right after
//
// battle:vote_cast:
//   round: number, voterId: string, participantId: string
//   tally: { [participantId]: number }
//
// battle:comment_added:
//   comment: { id, userId, body, createdAt }
//
// battle:content_submitted:
//   round: number, participantId: string
//
// battle:round_scored:
//   round: number, score: { round, a, b }
//
// battle:round_advanced:
//   round: number // new current round
//
// battle:winner_declared:
//   winner: participantId | "tie"
//
// battle:voting_toggled | battle:comments_toggled | battle:visibility_changed:
//   enabled: boolean
//
// battle:song_requested | battle:song_status | battle:song_completed:
//   job: { taskId, status, audioUrl?, videoUrl?, imageUrl?, title, beatStyle }
//
// pong:
//   reply to ping
//
// error:
//   error: string
//
// Delivery is at-least-once. Every message carries a full snapshot; keep the
// one with the later (updatedAt, version).
