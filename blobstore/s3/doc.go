// Package s3 provides an Amazon S3 implementation of blobstore.Store.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("blocks/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	dev, err := device.NewBlob(store, "disk0", 1024, device.WithCompression(compress.ZSTD))
//
// Objects are small (one per block), so Put goes through the upload manager
// as a single PutObject with a CRC32C checksum.
package s3
