package llm

import "strings"

// InferPersona picks a response-style directive from the question when
// the client asked for "auto".
func InferPersona(question string) string {
	q := strings.ToLower(question)
	switch {
	case containsAny(q, "code", "compile", "bug", "function"):
		return "coder"
	case containsAny(q, "train", "exercise", "workout", "practice"):
		return "coach"
	case containsAny(q, "exam", "explain", "learn", "study"):
		return "teacher"
	default:
		return "teacher"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
