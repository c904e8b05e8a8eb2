// Package suppression is the single answer to "may this address receive
// mail". Suppression is the union of three sources: the explicit preference
// record, the send log (bounces and complaints), and per-store contact
// records. Any one of them is enough.
//
// Recording a suppression also cancels every active drip enrollment and
// in-flight workflow execution for the address before the call returns, so
// a scheduler tick that starts afterwards has nothing left to send.
//
// The service layer depends on the Repository and Cache interfaces and
// never imports net/http or database/sql directly.
package suppression
