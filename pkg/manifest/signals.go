package manifest

import (
	"fmt"
	"strings"
)

// Signal names one capability that makes a descriptor network related
type Signal string

const (
	SignalWebAccessibleResources Signal = "web_accessible_resources"
	SignalPermissions            Signal = "permissions"
	SignalHostPermissions        Signal = "host_permissions"
	SignalContentScripts         Signal = "content_scripts"
	SignalPopup                  Signal = "action_popup"
	SignalOptionalPermissions    Signal = "optional_permissions"
	SignalURLOverrides           Signal = "chrome_url_overrides"
)

// permissionMarkers are matched against the textual form of the permissions list
var permissionMarkers = []string{"://", "<all_urls>", "webRequest"}

// NetworkSignals evaluates every capability check and returns the ones that matched
func (d Descriptor) NetworkSignals() []Signal {
	var signals []Signal

	if d.exposesPages() {
		signals = append(signals, SignalWebAccessibleResources)
	}
	if d.broadPermissions() {
		signals = append(signals, SignalPermissions)
	}
	if d.Has("host_permissions") {
		signals = append(signals, SignalHostPermissions)
	}
	if d.injectsScripts() {
		signals = append(signals, SignalContentScripts)
	}
	if d.hasPopup() {
		signals = append(signals, SignalPopup)
	}
	if d.Has("optional_permissions") {
		signals = append(signals, SignalOptionalPermissions)
	}
	if d.Has("chrome_url_overrides") {
		signals = append(signals, SignalURLOverrides)
	}

	return signals
}

// IsNetworkRelated reports whether any capability check matched
func (d Descriptor) IsNetworkRelated() bool {
	return len(d.NetworkSignals()) > 0
}

// exposesPages: an object entry of web_accessible_resources lists an html or js resource
func (d Descriptor) exposesPages() bool {
	entries, _ := d["web_accessible_resources"].([]interface{})
	for _, entry := range entries {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		resources, _ := obj["resources"].([]interface{})
		for _, r := range resources {
			s, ok := r.(string)
			if ok && (strings.HasSuffix(s, "html") || strings.HasSuffix(s, "js")) {
				return true
			}
		}
	}
	return false
}

func (d Descriptor) broadPermissions() bool {
	perms, ok := d["permissions"]
	if !ok {
		return false
	}
	text := fmt.Sprint(perms)
	for _, marker := range permissionMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (d Descriptor) injectsScripts() bool {
	scripts, _ := d["content_scripts"].([]interface{})
	for _, s := range scripts {
		if obj, ok := s.(map[string]interface{}); ok {
			if _, ok := obj["js"]; ok {
				return true
			}
		}
	}
	return false
}

// hasPopup checks action, falling back to browser_action only when action is absent
func (d Descriptor) hasPopup() bool {
	action, ok := d["action"]
	if !ok {
		action, ok = d["browser_action"]
	}
	if !ok {
		return false
	}
	obj, ok := action.(map[string]interface{})
	if !ok {
		return false
	}
	switch popup := obj["default_popup"].(type) {
	case string:
		return popup != ""
	case []interface{}:
		return len(popup) > 0
	case map[string]interface{}:
		return len(popup) > 0
	default:
		return false
	}
}

// SignalNames converts signals to plain strings
func SignalNames(signals []Signal) []string {
	names := make([]string, len(signals))
	for i, s := range signals {
		names[i] = string(s)
	}
	return names
}
