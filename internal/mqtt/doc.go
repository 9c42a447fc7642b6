// Package mqtt publishes the generator's status device to Home Assistant
// over MQTT discovery. The device exposes the gateway status, the number
// of open conversations, automations created since start and tokens
// spent today.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each sensor entity and a birth message ("online") to the
// availability topic. A will message moves the availability topic to
// "offline" on unexpected disconnects.
package mqtt
