// Package timeouts defines shared timeout constants used across the
// adjudication pipeline. Centralizing these values keeps stage budgets
// discoverable and prevents drift between components.
package timeouts

import "time"

// CaptureNavigation caps the initial page load of an activity page.
// Exceeding it is tolerated: a partial render is often sufficient.
const CaptureNavigation = 30 * time.Second

// CaptureSelector caps the wait for either content-readiness selector
// after navigation. Exceeding it fails the capture.
const CaptureSelector = 20 * time.Second

// CaptureModal caps the best-effort dismissal of the signup modal.
const CaptureModal = 5 * time.Second

// CaptureSettle is the delay between content readiness and screenshot,
// letting late dynamic content paint.
const CaptureSettle = time.Second

// Adjudication caps a single reasoning-model request, including the
// full streamed response.
const Adjudication = 120 * time.Second

// ChainConfirm caps the wait for a settlement transaction receipt.
const ChainConfirm = 90 * time.Second

// ReadHeader limits how long the HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the HTTP server drains in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second
