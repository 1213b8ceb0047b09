// Package http provides HTTP handlers and middleware for the booking API.
//
// The router exposes the following endpoints:
//   - POST /bookings: admits a new booking, expanding any recurrence rule into
//     occurrences. Responds 201 when confirmed and 409 with the conflict list
//     when the booking is rejected. Facility managers and admins may pass
//     "override": true to supersede conflicting bookings.
//   - GET /bookings: lists bookings filtered by room_id, user_id, state, and
//     a starts_after/ends_before window.
//   - GET /bookings/{id}, PUT /bookings/{id}, DELETE /bookings/{id}: fetch,
//     reschedule, and cancel a single booking. Reschedule carries the caller's
//     expected_version for optimistic concurrency; a mismatch yields 409 with
//     error code STALE_VERSION. Cancel accepts expected_version optionally and
//     otherwise cancels against whatever version is stored.
//   - GET /bookings/conflicts?room_id=...&start=...&end=...: admin-only report
//     of overlapping active occurrences within one room.
//   - GET /rooms, POST /rooms, GET /rooms/{id}: room catalog endpoints.
//     Mutations require the admin role.
//   - GET /rooms/{id}/availability?start=...&end=...: the free/busy partition
//     of the window for one room.
//   - GET /rooms/availability?room_ids=a,b&start=...&end=...: the same
//     partition for several rooms at once; omitting room_ids scans the whole
//     catalog.
//   - GET /healthz: liveness probe, exempt from actor headers.
//
// The acting principal arrives via the X-Actor-ID and X-Actor-Role headers
// set by the authenticating gateway in front of this service. Request and
// response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
