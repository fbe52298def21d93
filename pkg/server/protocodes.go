package server

const (
	// Registration commands
	// PassCmd `PASS secretpass` [Password message](https://tools.ietf.org/html/rfc2812#section-3.1.1) - accepted and ignored
	PassCmd = "PASS"
	// NickCmd `NICK tehcyx [ <hopcount> ]` [Nick message](https://tools.ietf.org/html/rfc2812#section-3.1.2) - hopcount actually not yet supported
	NickCmd = "NICK"
	// UserCmd `USER <user> <mode> <unused> <realname>` [User message](https://tools.ietf.org/html/rfc2812#section-3.1.3)
	UserCmd = "USER"
	// QuitCmd `QUIT [<Quit message>]` [Quit](https://tools.ietf.org/html/rfc2812#section-3.1.7) - Quit message not forwarded
	QuitCmd = "QUIT"
	// CapCmd capability negotiation, not supported and ignored
	CapCmd = "CAP"
	// !Registration commands

	// Error commands
	ErrNoSuchNick       = "401"
	ErrNoSuchChannel    = "403"
	ErrNoOrigin         = "409"
	ErrNoRecipient      = "411"
	ErrNoTextToSend     = "412"
	ErrNickNull         = "431"
	ErrNickInvalid      = "432"
	ErrNickInUse        = "433"
	ErrNeedMoreParams   = "461" // <command> :Not enough parameters
	ErrAlreadyRegistred = "462" // :You may not reregister
	// !Error commands

	// Client commands
	PrivmsgCmd = "PRIVMSG"
	PingCmd    = "PING"
	JoinCmd    = "JOIN"
	PartCmd    = "PART"
	NamesCmd   = "NAMES"
	MotdCmd    = "MOTD"
	// !Client commands

	// Command Responses
	RplWelcome   = "001"
	RplYourHost  = "002"
	RplCreated   = "003"
	RplMyInfo    = "004"
	RplMotd      = "372"
	RplMotdStart = "375"
	RplEndOfMotd = "376"
	// !Command Responses
)
