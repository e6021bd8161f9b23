package mocks

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name Lookup --dir ../domain/profile --output domain/profile --outpkg profilemock --filename lookup_mock.go
//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name Repository --dir ../domain/meta --output domain/meta --outpkg metamock --filename repository_mock.go
