package sqlstore

import "strings"

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	if strings.Contains(message, "unique constraint failed") {
		return true
	}
	if strings.Contains(message, "duplicate key value violates unique constraint") {
		return true
	}
	return false
}
