package fault

import "strings"

// rule is one entry in the classification table. A rule matches when its
// status is zero or equal to the observed status, and its substring is empty
// or present (case-insensitive) in the observed message.
type rule struct {
	status int
	substr string
	kind   Kind
}

// classifyRules is evaluated top to bottom; the first match wins. Status-coded
// rules come before message-substring rules so that an authoritative HTTP
// status is never overridden by incidental wording in the error body.
var classifyRules = []rule{
	// Status code first.
	{status: 401, kind: KindInvalidCredential},
	{status: 403, substr: "quota", kind: KindQuotaExhausted},
	{status: 403, kind: KindInvalidCredential},
	{status: 429, substr: "quota", kind: KindQuotaExhausted},
	{status: 429, substr: "billing", kind: KindQuotaExhausted},
	{status: 429, kind: KindRateLimited},
	{status: 400, substr: "format", kind: KindInvalidAudioFormat},
	{status: 400, substr: "decode", kind: KindInvalidAudioFormat},
	{status: 400, substr: "corrupt", kind: KindInvalidAudioFormat},
	{status: 400, substr: "audio", kind: KindInvalidAudioFormat},
	{status: 400, kind: KindMalformedRequest},
	{status: 404, substr: "model", kind: KindModelUnavailable},
	{status: 404, kind: KindMalformedRequest},
	{status: 413, kind: KindAudioTooLarge},
	{status: 422, kind: KindMalformedRequest},
	{status: 500, kind: KindServiceUnavailable},
	{status: 502, kind: KindServiceUnavailable},
	{status: 503, kind: KindServiceUnavailable},
	{status: 504, kind: KindServiceUnavailable},

	// Message substring fallback, for transport errors that carry no status.
	{substr: "api key", kind: KindInvalidCredential},
	{substr: "unauthorized", kind: KindInvalidCredential},
	{substr: "insufficient_quota", kind: KindQuotaExhausted},
	{substr: "quota", kind: KindQuotaExhausted},
	{substr: "rate limit", kind: KindRateLimited},
	{substr: "too many requests", kind: KindRateLimited},
	{substr: "model_not_found", kind: KindModelUnavailable},
	{substr: "does not exist", kind: KindModelUnavailable},
	{substr: "overloaded", kind: KindServiceUnavailable},
	{substr: "connection refused", kind: KindServiceUnavailable},
	{substr: "timeout", kind: KindServiceUnavailable},
}

// Classify maps a provider failure to a taxonomy Kind. status is the HTTP
// status code of the provider response, or zero when the failure never reached
// the HTTP layer. message is matched case-insensitively.
//
// Classify is a pure function; it performs no I/O and is safe for concurrent
// use. Callers must classify a given failure exactly once and propagate the
// resulting Fault unchanged.
func Classify(status int, message string) Kind {
	lower := strings.ToLower(message)
	for _, r := range classifyRules {
		if r.status != 0 && r.status != status {
			continue
		}
		if r.substr != "" && !strings.Contains(lower, r.substr) {
			continue
		}
		return r.kind
	}
	return KindUnknown
}

// FromStatus builds a classified Fault from a provider status and message.
func FromStatus(status int, message string) *Fault {
	return New(Classify(status, message), message)
}
