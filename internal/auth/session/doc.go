// Package session implements Pigeon's stateless session model.
//
// Two token classes are issued per login: a short-lived access token carrying
// a cached profile snapshot, and a longer-lived refresh token carrying only
// the user id. Both are HS256 JWTs signed with distinct secrets. The server
// holds no session rows: verification is signature + expiry only, and logout
// acts purely at the cookie transport boundary. A stolen refresh token
// therefore stays valid until natural expiry; this is a known, accepted gap.
//
// Rotation mints a fresh access token from a valid refresh token, re-reading
// the profile so the new snapshot reflects current state. The refresh token
// itself is never rotated.
package session
