// Package zrtp implements the ZRTP key-agreement handshake core: wire
// codec, hash-chain authentication, algorithm negotiation, key agreement
// (DH, ECDH, a post-quantum KEM, and multistream), and the key schedule
// that derives SRTP media keys and a short authentication string.
//
// The package is transport-agnostic: it neither opens sockets nor owns a
// clock. Callers drive it with received packets via Session.ProcessMessage
// and a periodic Session.Tick, and it reacts through Callbacks and
// Session.StartChannel/GoClear/BackToSecure.
package zrtp
