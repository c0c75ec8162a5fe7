// Package agentloop drives an assistant that answers in text and code.
//
// A [Session] holds the conversation. Respond asks a [Generator] for the next
// assistant message, streaming its deltas through [MergeDelta] and a
// [Classifier] that marks where message text and code blocks begin and end.
// When the finished message carries code, the session runs it through an
// [Executor] (normally a *computer.Registry), stores the output on the
// message bounded by [TruncateOutput], and asks the generator again. The loop
// ends when the assistant replies without code.
//
// Everything the caller sees comes out of one pull iterator:
//
//	for ev, err := range session.Chat(ctx, "plot a sine wave") {
//	    if err != nil {
//	        return err
//	    }
//	    render(ev)
//	}
//
// Breaking out of the range cancels the response. If code is running at that
// point, its language session is interrupted; interpreter state survives.
//
// Generation failures are classified into *CredentialError,
// *ModelAccessError and *LocalBackendError. A model access failure leaves a
// fallback pending: call Session.AcceptFallback and respond again to
// continue on the fallback model.
package agentloop
