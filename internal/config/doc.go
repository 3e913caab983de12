// Package config loads, normalizes, and validates autopipe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// DOCKER_USERNAME for the image registry prefix and KFP_API_URL/KFP_TOKEN for
// the Kubeflow connection. A .env file in the working directory is loaded
// first so those variables can live next to the pipeline definition.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical backend names, and clear validation errors.
package config
