package protocol

import (
	"github.com/sarchlab/mboxd/errkind"
	"github.com/sarchlab/mboxd/transport/mbox"
)

var statusV1 = map[errkind.Kind]mbox.Status{
	errkind.InvalidArgument: mbox.StatusParamError,
	errkind.Sequence:        mbox.StatusParamError,
	errkind.Unsupported:     mbox.StatusParamError,
	errkind.Permission:      mbox.StatusParamError,
	errkind.Unmapped:        mbox.StatusParamError,
	errkind.Window:          mbox.StatusParamError,
	errkind.Busy:            mbox.StatusSystemError,
	errkind.Timeout:         mbox.StatusTimeout,
}

var statusV2 = map[errkind.Kind]mbox.Status{
	errkind.Permission:      mbox.StatusWindowError,
	errkind.Unmapped:        mbox.StatusWindowError,
	errkind.Window:          mbox.StatusWindowError,
	errkind.Sequence:        mbox.StatusSeqError,
	errkind.Busy:            mbox.StatusBusy,
	errkind.InvalidArgument: mbox.StatusParamError,
	errkind.Unsupported:     mbox.StatusParamError,
	errkind.Timeout:         mbox.StatusTimeout,
}

// StatusOf returns the response code reporting err to a host speaking v.
// Kinds without a dedicated code are system errors.
func StatusOf(err error, v Version) mbox.Status {
	if err == nil {
		return mbox.StatusSuccess
	}

	table := statusV1
	if v >= Version2 {
		table = statusV2
	}

	status, ok := table[errkind.KindOf(err)]
	if !ok {
		return mbox.StatusSystemError
	}

	return status
}
