package bridge

const (
	// Commands the bridge emits towards the IRC client
	PrivmsgCmd  = "PRIVMSG"
	NoticeCmd   = "NOTICE"
	JoinCmd     = "JOIN"
	PartCmd     = "PART"
	NickCmd     = "NICK"
	TopicCmd    = "TOPIC"
	PingPongCmd = "PONG"
	// !Commands

	// Command Responses
	RplNameReply  = "353"
	RplEndOfNames = "366"
	// !Command Responses

	// Error replies for commands referencing an unbound channel
	ErrCannotSendToChan = "404"
	ErrNotOnChannel     = "442"
	// !Error replies

	// namesVisibility is the channel-visibility marker used in RPL_NAMREPLY.
	namesVisibility = "@"
	// allChannels stands in for the channel name of a NAMES reply without target.
	allChannels = "*"
)
