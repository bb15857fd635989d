package key

// SESSION

var (
	_ publicKey = SessionPublic{}

	// We need this to announce keys in discovery records
	_ canTextMarshal = &SessionPublic{}

	_ privateKey[SessionPublic] = SessionPrivate{}

	_ createSharedKey[SessionPublic, SessionPrivate, SessionShared] = SessionPrivate{}

	// Redundant by createSharedKey, but just to be sure
	_ sharedKey[SessionPublic, SessionPrivate] = SessionShared{}
)
