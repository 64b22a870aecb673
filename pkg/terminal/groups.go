package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	registerCmds
	threadCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Viewing and changing registers", registerCmds},
	{"Listing and switching between threads", threadCmds},
	{"Other commands", otherCmds},
}
