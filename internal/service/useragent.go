package service

import (
	ua "github.com/mileusna/useragent"

	"github.com/SergeiKhy/shortly/internal/models"
)

// ClassifyUserAgent разбирает строку User-Agent на тип устройства,
// браузер и платформу
func ClassifyUserAgent(userAgent string) (deviceType, browser, platform string) {
	parsed := ua.Parse(userAgent)

	switch {
	case parsed.Bot:
		deviceType = models.DeviceBot
	case parsed.Tablet:
		deviceType = models.DeviceTablet
	case parsed.Mobile:
		deviceType = models.DeviceMobile
	case parsed.Desktop:
		deviceType = models.DeviceDesktop
	default:
		deviceType = models.DeviceOther
	}

	return deviceType, parsed.Name, parsed.OS
}
