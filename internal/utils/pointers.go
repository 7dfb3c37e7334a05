package utils

import "time"

// GetOrDefault returns the value if the pointer is not nil, otherwise returns the default value
func GetOrDefault[T any](ptr *T, defaultVal T) T {
	if ptr == nil {
		return defaultVal
	}
	return *ptr
}

func TimePtr(t time.Time) *time.Time {
	return &t
}

func Now() time.Time {
	return time.Now().UTC()
}
