package main

import (
	"github.com/sarchlab/mboxd/logging"
	"github.com/sarchlab/mboxd/lpc"
)

func openAspeed(path string, log *logging.Logger) (lpc.Controller, error) {
	a, err := lpc.Open(path, log)
	if err != nil {
		return nil, err
	}

	return a, nil
}
