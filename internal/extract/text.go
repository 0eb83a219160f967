package extract

import (
	"context"
	"os"
	"strings"
)

// extractText reads the file as UTF-8, dropping invalid byte sequences.
func extractText(_ context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), ""), nil
}
