package engine

var anyStatus = map[Status]bool{
	StatusDraft:     true,
	StatusPaused:    true,
	StatusLive:      true,
	StatusCompleted: true,
}

var notCompleted = map[Status]bool{
	StatusDraft:  true,
	StatusPaused: true,
	StatusLive:   true,
}

// legalFrom lists, per command, the statuses it may be applied in.
var legalFrom = map[CommandType]map[Status]bool{
	CmdMarkReady:      {StatusDraft: true},
	CmdStartLive:      {StatusPaused: true},
	CmdStopLive:       anyStatus,
	CmdAdvanceRound:   {StatusPaused: true, StatusLive: true},
	CmdRewindRound:    notCompleted,
	CmdDeclareWinner:  {StatusPaused: true, StatusLive: true},
	CmdToggleVoting:   anyStatus,
	CmdToggleComments: anyStatus,
	CmdSetVisibility:  anyStatus,
	CmdSubmitContent:  notCompleted,
	CmdCastVote:       notCompleted,
	CmdAddComment:     anyStatus,
}

// CanApply reports whether t is legal in status s without running it.
func CanApply(s Status, t CommandType) bool {
	return legalFrom[t][s]
}
