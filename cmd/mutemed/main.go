package main

import (
	"fmt"

	"github.com/alecthomas/kong"
)

const version = "1.0.0"

var cli struct {
	Run         RunCmd         `cmd:"" default:"1" help:"Run the mute button daemon (default)."`
	CheckDevice CheckDeviceCmd `cmd:"" name:"check-device" help:"Check that a MuteMe device is connected and accessible."`
	TestDevice  TestDeviceCmd  `cmd:"" name:"test-device" help:"Cycle LED colors and brightness, optionally wait for a button press."`
	Config      ConfigCmd      `cmd:"" help:"Configuration file helpers."`
	Version     VersionCmd     `cmd:"" help:"Print the version and exit."`

	VersionFlag kong.VersionFlag `name:"version" help:"Print the version and exit."`
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("mutemed"),
		kong.Description("MuteMe USB mute button daemon for PulseAudio."),
		kong.UsageOnError(),
		kong.Vars{"version": "mutemed " + version},
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

type VersionCmd struct{}

func (VersionCmd) Run() error {
	fmt.Printf("mutemed %s\n", version)
	return nil
}
