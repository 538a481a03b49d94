// Package device describes the posture wearable and the radio it is reached through.
//
// It provides:
//   - the device identity (advertised name pattern and GATT identifiers)
//   - the callback-style radio abstraction implemented by the go-ble and gatt backends
//   - the discovered GATT profile model (services, characteristics, properties)
//   - the error taxonomy shared by the session and the backends
package device
