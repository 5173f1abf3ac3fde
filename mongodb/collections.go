package mongodb

const (
	// CredentialsCollection stores one document per application user with the
	// encrypted Meta tokens and linked page credentials.
	CredentialsCollection = "meta_credentials"
)
