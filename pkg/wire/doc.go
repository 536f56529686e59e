// Package wire implements the DWARF control-plane message encoding.
//
// Every frame on the command channel is a single packet envelope:
//
//	{
//	  1: majorVersion,  // uint8
//	  2: minorVersion,  // uint8
//	  3: deviceId,      // uint8
//	  4: moduleId,      // uint8: firmware module addressed by the command
//	  5: cmd,           // uint16: command identifier within the module
//	  6: type,          // uint8: 0=request, 1=response, 2=notification, 3=notification ack
//	  7: payload,       // command-specific body (opaque bytes)
//	  8: clientId       // string: controlling client identifier (requests only)
//	}
//
// Responses echo the (moduleId, cmd) pair of the request they answer.
// Notifications originate from the notify module and are never correlated
// with a request. Command bodies are CBOR maps with integer keys; the
// generic Response body carries the firmware result code.
//
// Command identifiers mirror the vendor protocol specification; only the
// subset the bridge issues is declared here.
package wire
