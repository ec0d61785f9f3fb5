//go:build !linux

package main

import (
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/lpc"
)

func openAspeed(string, *logging.Logger) (lpc.Controller, error) {
	return nil, errkind.New(errkind.Unsupported, "lpc init",
		"the LPC control device needs Linux, use --simulate")
}
