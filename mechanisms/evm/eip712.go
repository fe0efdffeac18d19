package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/pinion-os/x402-go"
)

// PrimaryTypeTransferWithAuthorization is the EIP-3009 struct name.
const PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"

// DomainTypes is the EIP712Domain definition used by USDC.
var DomainTypes = []TypedDataField{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// TransferWithAuthorizationTypes returns the EIP-712 types for an EIP-3009
// authorization.
func TransferWithAuthorizationTypes() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain": DomainTypes,
		PrimaryTypeTransferWithAuthorization: {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

// ToAPITypes converts a domain and type set to go-ethereum's representation.
func ToAPITypes(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]any,
) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types, len(types)+1),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typed := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typed[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types[typeName] = typed
	}
	if _, ok := typedData.Types["EIP712Domain"]; !ok {
		typed := make([]apitypes.Type, len(DomainTypes))
		for i, field := range DomainTypes {
			typed[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		typedData.Types["EIP712Domain"] = typed
	}
	return typedData
}

// HashTypedData computes keccak256("\x19\x01" || domainSeparator || structHash).
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]any,
) ([]byte, error) {
	typedData := ToAPITypes(domain, types, primaryType, message)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := make([]byte, 0, 2+len(domainSeparator)+len(dataHash))
	rawData = append(rawData, 0x19, 0x01)
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// AuthorizationMessage converts the wire authorization into the EIP-712
// message map.
func AuthorizationMessage(auth x402.Authorization) (map[string]any, error) {
	value, err := x402.ParseUint256(auth.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	validAfter, err := x402.ParseUint256(auth.ValidAfter)
	if err != nil {
		return nil, fmt.Errorf("invalid validAfter: %w", err)
	}
	validBefore, err := x402.ParseUint256(auth.ValidBefore)
	if err != nil {
		return nil, fmt.Errorf("invalid validBefore: %w", err)
	}
	nonce, err := HexToBytes(auth.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce: %w", err)
	}
	if len(nonce) != 32 {
		return nil, fmt.Errorf("invalid nonce: expected 32 bytes, got %d", len(nonce))
	}

	return map[string]any{
		"from":        auth.From,
		"to":          auth.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonce,
	}, nil
}

// AuthorizationDomain builds the EIP-712 domain for requirements. The token
// name and version must come from requirements.Extra.
func AuthorizationDomain(requirements x402.PaymentRequirements) (TypedDataDomain, error) {
	if requirements.Extra == nil || requirements.Extra.Name == "" || requirements.Extra.Version == "" {
		return TypedDataDomain{}, x402.ErrMissingDomainMetadata
	}
	cfg, err := x402.GetNetworkConfig(requirements.Network)
	if err != nil {
		return TypedDataDomain{}, err
	}
	if !IsValidAddress(requirements.Asset) {
		return TypedDataDomain{}, fmt.Errorf("invalid asset address: %s", requirements.Asset)
	}
	return TypedDataDomain{
		Name:              requirements.Extra.Name,
		Version:           requirements.Extra.Version,
		ChainID:           new(big.Int).Set(cfg.ChainID),
		VerifyingContract: requirements.Asset,
	}, nil
}

// HashAuthorization returns the EIP-712 digest of auth bound to requirements.
func HashAuthorization(auth x402.Authorization, requirements x402.PaymentRequirements) ([]byte, error) {
	domain, err := AuthorizationDomain(requirements)
	if err != nil {
		return nil, err
	}
	message, err := AuthorizationMessage(auth)
	if err != nil {
		return nil, err
	}
	return HashTypedData(domain, TransferWithAuthorizationTypes(), PrimaryTypeTransferWithAuthorization, message)
}
