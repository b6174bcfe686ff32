// Package bridge resolves the websocket endpoints exposed by the local device
// bridge and implements the touch credential exchange.
//
// The bridge multiplexes every printer behind one base URL: control channels
// live at /ws/control/<uuid>, camera streams at /ws/camera/<uuid>, the
// discovery feed at /ws/discover, credential exchange at /ws/touch, and the
// slicing backend at /ws/3dprint-slicing.
package bridge
