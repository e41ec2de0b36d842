// Package types defines the OpenAI-compatible request, response, and
// error shapes exposed by the gateway. The JSON layout matches the
// OpenAI API so existing SDKs and tools work unmodified.
package types
