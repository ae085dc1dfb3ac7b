package main

import (
	"context"
	"errors"

	"github.com/rhema-dev/coordination/coorderr"
)

// Exit codes documented for every coordinatord subcommand.
const (
	exitSuccess         = 0
	exitValidationError = 1
	exitRuntimeError    = 2
	exitTransportError  = 3
	exitCancelled       = 130
)

// validationCodes are failures caused by the operator's own input: a
// malformed spec, an unknown id, a name collision. The fix is a different
// invocation, not a retry.
var validationCodes = map[coorderr.Code]bool{
	coorderr.CodeInvalidSpec:          true,
	coorderr.CodeInvalidConfiguration: true,
	coorderr.CodeUnsupportedEnvelope:  true,
	coorderr.CodeUnknownAgent:         true,
	coorderr.CodeUnknownRecipient:     true,
	coorderr.CodeDuplicateID:          true,
	coorderr.CodeIllegalTransition:    true,
	coorderr.CodeAccessDenied:         true,
	coorderr.CodeNoEligibleAgent:      true,
}

// exitCodeFor maps an error returned by the coordinator facade to one of
// this CLI's documented exit codes.
func exitCodeFor(err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, context.Canceled) || coorderr.Is(err, coorderr.CodeCancelled) {
		return exitCancelled
	}

	code := coorderr.CodeOf(err)
	if code == "" {
		// Not one of the core's own errors: config loading, audit store
		// setup, or some other failure reaching the facade at all.
		return exitTransportError
	}
	if validationCodes[code] {
		return exitValidationError
	}
	return exitRuntimeError
}
