package media

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

func IsRemote(ref string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// ResultKey is where the generated output of a job is stored.
func ResultKey(jobID, contentType string) string {
	return "results/" + jobID + extension(contentType)
}

// InputKey is a fresh, owner-scoped key for an uploaded input photo.
func InputKey(ownerID, name string) string {
	ext := strings.ToLower(path.Ext(path.Base(strings.TrimSpace(name))))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".webp":
	default:
		ext = ".jpg"
	}
	return "inputs/" + ownerID + "/" + time.Now().UTC().Format("20060102") + "/" + uuid.NewString() + ext
}

func extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	}
	return ".bin"
}
