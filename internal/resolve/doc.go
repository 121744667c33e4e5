// Package resolve maps a configured host onto a dial address, via DNS SRV
// discovery for names and directly for literal IPs.
package resolve
