package media

import (
	"strings"

	"github.com/pion/mediadevices/pkg/driver"
	"github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/prop"

	"github.com/edaniels/camrelay"
)

// A DeviceInfo describes a queryable video device.
type DeviceInfo struct {
	ID         string
	Labels     []string
	Priority   driver.Priority
	Properties []prop.Media
}

// QueryVideoDevices returns all known camera devices and their supported
// capture properties.
func QueryVideoDevices() []DeviceInfo {
	typeFilter := driver.FilterVideoRecorder()
	notScreenFilter := driver.FilterNot(driver.FilterDeviceType(driver.Screen))
	filter := driver.FilterAnd(typeFilter, notScreenFilter)

	var all []DeviceInfo
	for d, props := range queryDriverProperties(filter, camrelay.Logger) {
		all = append(all, DeviceInfo{
			ID:         d.ID(),
			Labels:     strings.Split(d.Info().Label, camera.LabelSeparator),
			Priority:   d.Info().Priority,
			Properties: props,
		})
	}
	return all
}
