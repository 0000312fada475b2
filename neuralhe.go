/*
Package neuralhe evaluates neural network inference on data encrypted with the CKKS homomorphic encryption scheme.

The fhe package holds the cryptographic objects (contexts, keys, plaintexts and ciphertexts), the nn package the
layer operators running on ciphertexts, and the config package the configuration files of both. The
examples/neural directory contains a key generation program and an encrypted inference program.
*/
package neuralhe
