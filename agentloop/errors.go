package agentloop

import (
	"errors"
	"fmt"
)

// ErrNoFallbackPending is returned by AcceptFallback when no model access
// error has been reported.
var ErrNoFallbackPending = errors.New("no model fallback pending")

// ErrSessionClosed is returned when responding on a closed session.
var ErrSessionClosed = errors.New("session is closed")

// ErrSessionBusy is returned when Respond is called while another response
// is in progress.
var ErrSessionBusy = errors.New("session is already responding")

// CredentialError reports a generation failure caused by missing or invalid
// API credentials.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%v\n\nThere might be an issue with your API key(s).\n\n"+
		"To reset your API key (OPENAI_API_KEY in this example; you may need to reset ANTHROPIC_API_KEY or another provider's key instead):\n"+
		"        Mac/Linux: 'export OPENAI_API_KEY=your-key-here'\n"+
		"        Windows: 'setx OPENAI_API_KEY your-key-here' then restart the terminal.", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// ModelAccessError reports that the configured model is not available to the
// account. The session keeps the proposed fallback; call
// Session.AcceptFallback and respond again to continue with it.
type ModelAccessError struct {
	Model    string
	Fallback string
	Err      error
}

func (e *ModelAccessError) Error() string {
	return fmt.Sprintf("you do not have access to %s; %s is available as a fallback: %v", e.Model, e.Fallback, e.Err)
}

func (e *ModelAccessError) Unwrap() error { return e.Err }

// DeclinedMessage is the guidance shown when the fallback is refused.
func (e *ModelAccessError) DeclinedMessage() string {
	return fmt.Sprintf("You will need to add a payment method and purchase credits on your provider's billing page to use %s.", e.Model)
}

// LocalBackendError reports a generation failure in local mode.
type LocalBackendError struct {
	Err error
}

func (e *LocalBackendError) Error() string {
	return fmt.Sprintf("%v\n\nPlease make sure your local model server (for example LM Studio) is running.\n\n"+
		"If the server is running, try a language model with a different architecture.", e.Err)
}

func (e *LocalBackendError) Unwrap() error { return e.Err }
