package storage

import "github.com/google/uuid"

func generateID() string {
	return uuid.NewString()
}

func addToSet(values []string, value string) ([]string, bool) {
	for _, existing := range values {
		if existing == value {
			return values, false
		}
	}
	return append(values, value), true
}

func removeFromSet(values []string, value string) ([]string, bool) {
	for i, existing := range values {
		if existing == value {
			out := make([]string, 0, len(values)-1)
			out = append(out, values[:i]...)
			return append(out, values[i+1:]...), true
		}
	}
	return values, false
}
