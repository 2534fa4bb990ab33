package browser

import "browser-task-scheduler/internal/models"

const (
	mobileUserAgent  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
	desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

// UserAgentFor picks a static user agent matching the device.
func UserAgentFor(d models.DeviceProfile) string {
	if d.IsMobile {
		return mobileUserAgent
	}
	return desktopUserAgent
}
