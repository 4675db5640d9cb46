// Package dht defines the optional peer-discovery resolver interface
// and the bootstrap seed client. Coordinator HTTP discovery covers
// every lookup; a resolver only short-cuts it.
package dht
