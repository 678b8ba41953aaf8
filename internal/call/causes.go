package call

// CauseInfo names an Asterisk hangup cause code.
type CauseInfo struct {
	Name        string
	Description string
}

// HangupCause maps Asterisk hangup cause codes to names and descriptions.
var HangupCause = map[int]CauseInfo{
	0:   {"unknown", "Unknown or no cause provided"},
	16:  {"normal_clearing", "The call was hung up normally by one of the parties"},
	17:  {"user_busy", "The destination was busy"},
	18:  {"no_answer", "The destination did not answer"},
	19:  {"no_answer", "The destination did not answer within the timeout"},
	21:  {"call_rejected", "The call was rejected by the destination"},
	31:  {"normal_unspecified", "Normal call clearing, unspecified cause"},
	34:  {"congestion", "All circuits are busy or no circuit is available"},
	127: {"interworking", "An interworking error occurred"},
}
