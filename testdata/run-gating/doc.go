// Package gating holds tests gated behind run toggles.
package gating
