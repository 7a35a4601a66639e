package retry

import "encoding/json"

// Predicate decides from call arguments whether a request is idempotent
// and therefore safe to retry.
type Predicate func(args map[string]interface{}) bool

// ConditionalPolicy retries only calls whose arguments make the request
// idempotent; everything else runs with retries disabled.
type ConditionalPolicy struct {
	// Policy is applied when all conditions hold.
	Policy Policy

	// RequiredArgs must all be present and non-nil in the call arguments.
	RequiredArgs []string

	// Predicate, when set, must additionally approve the arguments.
	Predicate Predicate
}

// PolicyFor returns the wrapped policy when the call arguments satisfy the
// conditions, or a zero-retry policy otherwise.
func (c ConditionalPolicy) PolicyFor(args map[string]interface{}) Policy {
	for _, name := range c.RequiredArgs {
		value, ok := args[name]
		if !ok || value == nil {
			return noRetryPolicy()
		}
	}
	if c.Predicate != nil && !c.Predicate(args) {
		return noRetryPolicy()
	}
	return c.Policy
}

func noRetryPolicy() Policy {
	return Policy{ShouldRetry: func(error) bool { return false }}
}

// IsGenerationSpecified approves calls that pin an object generation,
// either directly or via an ifGenerationMatch precondition.
func IsGenerationSpecified(args map[string]interface{}) bool {
	if value, ok := args["generation"]; ok && value != nil {
		return true
	}
	value, ok := args["ifGenerationMatch"]
	return ok && value != nil
}

// IsMetagenerationSpecified approves calls carrying an
// ifMetagenerationMatch precondition.
func IsMetagenerationSpecified(args map[string]interface{}) bool {
	value, ok := args["ifMetagenerationMatch"]
	return ok && value != nil
}

// IsEtagInJSON approves calls whose JSON payload carries an etag field.
func IsEtagInJSON(args map[string]interface{}) bool {
	raw, ok := args["body"]
	if !ok || raw == nil {
		return false
	}
	text, ok := raw.(string)
	if !ok {
		return false
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return false
	}
	value, ok := payload["etag"]
	return ok && value != nil
}
