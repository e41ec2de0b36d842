// Package orchestrator drives one inbound request through the attempt
// loop: acquire a credential, upload attachments, build the payload,
// call upstream, classify the outcome, and retry with exponential
// backoff under a wall-clock budget. Every terminal path, success or
// failure, emits exactly one outcome record.
package orchestrator
