// Package server exposes the ducking engine as an HTTP upload API.
package server
