// Package binary acquires the specterd daemon and decides whether it can be
// trusted to run.
//
// # Trust Model
//
// The launcher never executes a daemon it has not verified. The expected
// SHA-256 of the executable is pinned at build time in the manifest:
//   - A cached executable is hashed before every launch
//   - A mismatch (corrupt, tampered or a different version) triggers exactly
//     one re-fetch
//   - A freshly installed executable is hashed again before it is trusted
//
// When the manifest carries an OpenPGP signing key, the downloaded archive
// must also carry a valid detached signature before it is unpacked.
//
// # Provisioning States
//
//	Unchecked -> Verifying -> Trusted
//	     |           |
//	     +-----> Fetching -> Extracting -> Installing -> Trusted
//	                 |            |             |
//	                 +------------+-------------+--> Failed
//
// Failed is terminal for a run. Calling Manager.Provision again starts over
// from Unchecked; nothing is retried automatically.
//
// # Usage
//
//	mgr, err := binary.NewManager(binary.Config{
//	    DataDir:  filepath.Join(home, ".specter"),
//	    Manifest: m,
//	    Platform: info.ID,
//	    Sink:     sink,
//	})
//	if err != nil {
//	    return err
//	}
//
//	path, err := mgr.Provision(ctx)
//
// # Architecture
//
// The package is organized into several components:
//   - Manager: the provisioning state machine
//   - Downloader: streaming HTTPS fetch (the default Fetcher)
//   - FileInstaller: extraction, layout check and atomic replacement
//   - SignatureVerifier: optional detached signature check
//   - DigestOf/Verify: streaming SHA-256 integrity check
package binary
