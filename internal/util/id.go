package util

import (
	"strings"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return raw
	}
	return prefix + "_" + raw
}
