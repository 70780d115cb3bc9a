// Package fakes provides in-memory stand-ins for the AWS SDK clients the
// vault adapters depend on.
//
// The fakes keep parameter and secret versions in maps, paginate like the
// real services and return the same smithy API errors, so adapters can be
// tested for pagination, error translation and retry settings without a
// network:
//
//	client := fakes.NewFakeSSMClient()
//	client.AddParameter("/myapp/dev/db_password", "s3cret", true)
//	v, err := vaults.NewSSMVault(ctx, binding, nil, vaults.WithSSMClient(client))
package fakes
