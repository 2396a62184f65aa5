// Package minio provides a blobstore.Store backed by MinIO or any other
// S3-compatible service, using the MinIO client.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "my-bucket", "blocks/")
//	dev, err := device.NewBlob(store, "disk0", 1024)
package minio
