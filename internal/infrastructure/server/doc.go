// Package server assembles the browser host: configuration, logging,
// metrics, the browser context and the gin control API, plus graceful
// shutdown.
package server
