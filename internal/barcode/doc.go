// Package barcode decodes the version QR code printed on a sheet. The
// decoder sits behind the Backend interface so the pipeline can run with a
// stub in tests.
package barcode
