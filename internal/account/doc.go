// Package account stores PurrSong config entries and runs the setup,
// re-authentication and migration flows that guard them.
//
// An Entry is one configured PurrSong cloud account. Entries are persisted
// in the SQLite accounts table through Repository. Credentials are always
// validated against the cloud (login, fetch, at least one device) before an
// entry is created, updated or migrated.
//
// Entry versions:
//   - 1: login stored under the legacy username field
//   - 2: login stored as email, no unique ID
//   - 3: current; unique ID is the account e-mail, title "PurrSong"
package account
