package common

// This package contains shared types used across viewer packages.
// It provides the error taxonomy of the prefetch cache and in-process
// performance tracking.
