package marketplace

import (
	"fmt"
	"net/url"

	"taskmarket-backend/core/marketplace"

	"github.com/skip2/go-qrcode"
)

// TaskURI is the deep link encoded in a task's QR code.
func TaskURI(task marketplace.Task) string {
	q := url.Values{}
	q.Set("reward", fmt.Sprint(task.Reward))
	q.Set("poster", task.Poster)
	return fmt.Sprintf("taskmarket://task/%d?%s", task.ID, q.Encode())
}

// TaskQRCode renders the task deep link as a PNG of size pixels.
func TaskQRCode(task marketplace.Task, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	png, err := qrcode.Encode(TaskURI(task), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	return png, nil
}
